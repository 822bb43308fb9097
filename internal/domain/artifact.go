package domain

// Scaler is a pre-fitted numeric normalization.
// Transform receives the values of the scaled columns in the order named by
// columns and returns normalized values of the same width.
type Scaler interface {
	Transform(columns []string, values []float64) ([]float64, error)
}

// AnomalyScorer is a pre-trained unsupervised outlier model.
// Values are the full feature vector in schema order.
type AnomalyScorer interface {
	// Classify returns -1 for an outlier and 1 for an inlier.
	Classify(values []float64) (int, error)

	// AnomalyScore returns the raw score. Lower is more anomalous.
	AnomalyScore(values []float64) (float64, error)
}

// OutlierLabel is the Classify result meaning "model-flagged fraud".
const OutlierLabel = -1

// ArtifactConfig locates the pre-trained artifacts loaded at startup.
type ArtifactConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	SchemaFile string `json:"schemaFile" yaml:"schema_file"`
	ScalerFile string `json:"scalerFile" yaml:"scaler_file"`
	ModelFile  string `json:"modelFile" yaml:"model_file"`

	// ScaledColumns are the columns passed through the scaler, in order.
	ScaledColumns []string `json:"scaledColumns" yaml:"scaled_columns"`
}

// DefaultScaledColumns is the column order the shipped scaler was fitted on.
// Day_of_Week, Is_Weekend and Month are never populated from a request and
// enter the scaler as 0.0.
var DefaultScaledColumns = []string{
	"Amount",
	"Is_International",
	"Is_Chip",
	"Is_Pin_Used",
	"Distance_From_Home",
	"Hour_of_Day",
	"Day_of_Week",
	"Is_Weekend",
	"Month",
}
