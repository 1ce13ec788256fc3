// Package failcast predicts imminent host failure from a window of system
// telemetry and explains the prediction by the metrics that moved most.
//
// Quick start:
//
//	p, err := failcast.New(failcast.WithModelDir("models/"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	pred, err := p.Predict(ctx, rows) // 10 timesteps x 10 metrics, oldest first
//	if errors.Is(err, failcast.ErrShape) {
//	    // caller sent the wrong shape
//	}
//	fmt.Println(pred.WillFail, pred.Probability, pred.Reason)
//
// Metrics in each row follow the order of Features. The Predictor is safe
// for concurrent use; create it once and reuse it.
package failcast
