package squad

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// PredictionsFile is the name of the answers file in the output directory.
const PredictionsFile = "predictions.json"

// WritePredictions writes answers as a JSON object indented by four spaces
// and followed by a newline.
func WritePredictions(path string, answers map[string]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create predictions file")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close predictions file")
		}
	}()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(answers); err != nil {
		return errors.Wrap(err, "failed to write predictions")
	}
	return nil
}

// PredictionsPath returns the predictions file inside outputDir.
func PredictionsPath(outputDir string) string {
	return filepath.Join(outputDir, PredictionsFile)
}
