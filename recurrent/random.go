package recurrent

/*
Source is the subset of *rand.Rand the initializers draw from.
*/
type Source interface {
	Float64() float64
}

/*
Randf makes random numbers in [a, b)
*/
func Randf(r Source, a float64, b float64) float64 {
	return r.Float64()*(b-a) + a
}
