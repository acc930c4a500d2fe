package thole

import "math"

// Screening returns the Thole screening length a = thole / polar^(1/3)
func Screening(thole, polar float64) float64 {
	return thole / math.Cbrt(polar)
}

// FactorE is the energy damping factor 1 - exp(-ar)(1 + ar/2) - fc. With
// fc = 1 it tends to -1 as ar -> 0 and to 0 as ar -> inf.
func FactorE(ar, fc float64) float64 {
	return 1 - math.Exp(-ar)*(1+0.5*ar) - fc
}

// FactorF is the force damping factor, r * d/dr of FactorE(ar)/r scaled so
// that F = FactorF * C / r^2
func FactorF(ar, fc float64) float64 {
	return 1 - math.Exp(-ar)*(1+ar*(1+0.5*ar)) - fc
}

// pairTerm evaluates one interaction. c is qqrd2e*scale*qi*qj. It returns
// fpair, the force on i along del divided by |del|, and the energy.
func pairTerm(rsq, a, c, fc float64) (fpair, ecoul float64) {
	r := math.Sqrt(rsq)
	ar := a * r
	ex := math.Exp(-ar)
	rinv := 1 / r
	ff := 1 - ex*(1+ar*(1+0.5*ar)) - fc
	fe := 1 - ex*(1+0.5*ar) - fc
	return ff * c * rinv / rsq, fe * c * rinv
}
