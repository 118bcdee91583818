package domain

// CalibrationBin es un intervalo de confidence para un source, con la
// comparación predicho vs realizado dentro del intervalo.
type CalibrationBin struct {
	Low           float64
	High          float64
	Samples       int
	MeanPredicted float64
	RealizedRate  float64
	Overconfident bool // predicho > realizado
}

// Adjustment devuelve el ratio realizado/predicho del bin, 1 si el bin
// está vacío o el predicho es 0.
func (b CalibrationBin) Adjustment() float64 {
	if b.Samples == 0 || b.MeanPredicted <= 0 {
		return 1
	}
	return b.RealizedRate / b.MeanPredicted
}

// CalibrationCurve es la curva completa de un source con su Expected
// Calibration Error y veredicto cualitativo.
type CalibrationCurve struct {
	Source  string
	Bins    []CalibrationBin
	Total   int
	ECE     float64 // puntos porcentuales, ponderado por samples
	Verdict string  // excellent | good | fair | poor | insufficient_data
}

// DecayBucket es el IC de un source restringido a un rango de tiempo
// hasta resolución — caracteriza cuán rápido decae su edge.
type DecayBucket struct {
	Label   string
	Samples int
	IC      float64
}
