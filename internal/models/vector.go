package models

// VectorPoint is one student's embedding inside an exam collection.
type VectorPoint struct {
	ID          string
	StudentCode string
	Vector      []float32
	Payload     map[string]string
}

type SimilarMatch struct {
	StudentCode string
	Score       float64
}
