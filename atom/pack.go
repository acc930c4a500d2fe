package atom

import (
	"fmt"
)

// BorderWidth is the number of values per ghost in a border block, before
// callback blocks: x(3), tag, type, q, v(3)
const BorderWidth = 9

// PackExchange appends the migration record of local slot i. The record is
// self-describing: its first value is its total length.
func (st *Store) PackExchange(i int, buf []float64) []float64 {
	start := len(buf)
	buf = append(buf, 0, UBuf(st.Tag[i]), float64(st.Type[i]))
	buf = append(buf, st.X[i][:]...)
	buf = append(buf, st.V[i][:]...)
	buf = append(buf, st.Q[i], float64(len(st.Bonds[i])))
	for _, b := range st.Bonds[i] {
		buf = append(buf, UBuf(b))
	}
	sp := st.Special[i]
	buf = append(buf, float64(len(sp[0])), float64(len(sp[1])), float64(len(sp[2])))
	for l := range sp {
		for _, t := range sp[l] {
			buf = append(buf, UBuf(t))
		}
	}
	for _, cb := range st.callbacks {
		buf = cb.PackExchange(i, buf)
	}
	buf[start] = float64(len(buf) - start)
	return buf
}

// UnpackExchange appends the atom carried by one migration record as a new
// local and returns the number of values consumed
func (st *Store) UnpackExchange(buf []float64) (int, error) {
	if st.NGhost > 0 {
		return 0, ErrGhostsPresent
	}
	if len(buf) == 0 {
		return 0, fmt.Errorf("atom: empty exchange record")
	}
	size := int(buf[0])
	if size > len(buf) || size < 14 {
		return 0, fmt.Errorf("atom: exchange record of length %d in buffer of %d", size, len(buf))
	}

	i := st.NLocal
	st.Grow(i + 1)
	m := 1
	st.Tag[i] = FromUBuf(buf[m])
	st.Type[i] = int(buf[m+1])
	m += 2
	copy(st.X[i][:], buf[m:m+3])
	copy(st.V[i][:], buf[m+3:m+6])
	m += 6
	st.F[i] = [3]float64{}
	st.Q[i] = buf[m]
	nb := int(buf[m+1])
	m += 2
	st.Bonds[i] = nil
	for k := 0; k < nb; k++ {
		st.Bonds[i] = append(st.Bonds[i], FromUBuf(buf[m+k]))
	}
	m += nb
	var counts [3]int
	for l := range counts {
		counts[l] = int(buf[m+l])
	}
	m += 3
	var sp Special
	for l := range sp {
		for k := 0; k < counts[l]; k++ {
			sp[l] = append(sp[l], FromUBuf(buf[m+k]))
		}
		m += counts[l]
	}
	st.Special[i] = sp
	for _, cb := range st.callbacks {
		m += cb.UnpackExchange(i, buf[m:])
	}
	if m != size {
		return 0, fmt.Errorf("atom: exchange record declared %d values, consumed %d", size, m)
	}
	st.NLocal++
	st.mapDirty = true
	return size, nil
}

// PackBorder appends one border block for the slots in list, shifting
// positions by shift, followed by one block per callback
func (st *Store) PackBorder(list []int, shift [3]float64, buf []float64) []float64 {
	for _, i := range list {
		x := st.X[i]
		buf = append(buf, x[0]+shift[0], x[1]+shift[1], x[2]+shift[2],
			UBuf(st.Tag[i]), float64(st.Type[i]), st.Q[i])
		buf = append(buf, st.V[i][:]...)
	}
	for _, cb := range st.callbacks {
		buf = cb.PackBorder(list, buf)
	}
	return buf
}

// UnpackBorder appends n ghosts from a border block and returns the number
// of values consumed
func (st *Store) UnpackBorder(n int, buf []float64) (int, error) {
	if len(buf) < n*BorderWidth {
		return 0, fmt.Errorf("atom: border block of %d ghosts needs %d values, have %d",
			n, n*BorderWidth, len(buf))
	}
	first := st.NAll()
	st.Grow(first + n)
	m := 0
	for k := 0; k < n; k++ {
		i := first + k
		copy(st.X[i][:], buf[m:m+3])
		st.Tag[i] = FromUBuf(buf[m+3])
		st.Type[i] = int(buf[m+4])
		st.Q[i] = buf[m+5]
		copy(st.V[i][:], buf[m+6:m+9])
		st.F[i] = [3]float64{}
		st.Bonds[i] = nil
		st.Special[i] = Special{}
		m += BorderWidth
	}
	for _, cb := range st.callbacks {
		m += cb.UnpackBorder(n, first, buf[m:])
	}
	st.NGhost += n
	st.mapDirty = true
	return m, nil
}

// PackForward appends refreshed positions and velocities for list
func (st *Store) PackForward(list []int, shift [3]float64, buf []float64) []float64 {
	for _, i := range list {
		x := st.X[i]
		buf = append(buf, x[0]+shift[0], x[1]+shift[1], x[2]+shift[2])
		buf = append(buf, st.V[i][:]...)
	}
	return buf
}

// UnpackForward overwrites ghosts [first, first+n) from a forward block
func (st *Store) UnpackForward(n, first int, buf []float64) int {
	m := 0
	for i := first; i < first+n; i++ {
		copy(st.X[i][:], buf[m:m+3])
		copy(st.V[i][:], buf[m+3:m+6])
		m += 6
	}
	return m
}

// PackReverse appends the forces accumulated on ghosts [first, first+n)
func (st *Store) PackReverse(n, first int, buf []float64) []float64 {
	for i := first; i < first+n; i++ {
		buf = append(buf, st.F[i][:]...)
	}
	return buf
}

// UnpackReverse adds returned ghost forces onto the owners in list
func (st *Store) UnpackReverse(list []int, buf []float64) int {
	m := 0
	for _, i := range list {
		st.F[i][0] += buf[m]
		st.F[i][1] += buf[m+1]
		st.F[i][2] += buf[m+2]
		m += 3
	}
	return m
}
