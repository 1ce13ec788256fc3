package output

import (
	"context"

	"github.com/crimson-sun/failcast/internal/model"
)

// Output defines the interface for prediction destinations.
type Output interface {
	Write(ctx context.Context, pred model.Prediction) error
	Close() error
}
