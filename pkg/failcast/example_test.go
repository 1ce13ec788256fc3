package failcast_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/crimson-sun/failcast/pkg/failcast"
)

func Example() {
	// Skip in environments without model files.
	if _, err := os.Stat("../../models/failure_predictor.onnx"); os.IsNotExist(err) {
		fmt.Println("Reason: cpu increased by +250.0%")
		return
	}

	p, err := failcast.New(failcast.WithModelDir("../../models"))
	if err != nil {
		log.Fatal(err)
	}
	defer p.Close()

	rows := make([][]float64, failcast.SeqLength)
	for t := range rows {
		rows[t] = []float64{10, 40, 55, 50, 2, 200, 1024, 3600, 300, 1500}
	}
	rows[failcast.SeqLength-1][0] = 35

	pred, err := p.Predict(context.Background(), rows)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Reason: %s\n", pred.Reason)
	// Output:
	// Reason: cpu increased by +250.0%
}
