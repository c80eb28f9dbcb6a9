package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"reflect"
	"strings"

	"github.com/wehubfusion/Talos/pkg/event"
	"github.com/wehubfusion/Talos/pkg/module"
	"github.com/wehubfusion/Talos/pkg/task"
)

// ErrInvalidOutput is returned by ValidateOutputs.
var ErrInvalidOutput = errors.New("invalid module output")

// ValidateOutputs fails when an output holds a value that is not assignable to
// its declared type. Unset outputs are accepted. Runs after failed bodies are
// not validated.
func ValidateOutputs() Postprocessor {
	return PostprocessorFunc(func(ctx context.Context, m module.Module, runErr error) error {
		if runErr != nil {
			return nil
		}
		var problems []string
		for _, it := range m.Info().Outputs() {
			v := m.Output(it.Name())
			if v == nil {
				continue
			}
			if vt := reflect.TypeOf(v); !vt.AssignableTo(it.Type()) {
				problems = append(problems, fmt.Sprintf("%s: %s is not %s", it.Name(), vt, it.Type()))
			}
		}
		if len(problems) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidOutput, strings.Join(problems, "; "))
		}
		return nil
	})
}

// Notify publishes a ModuleExecuted event after every run.
func Notify(pub event.Publisher) Postprocessor {
	return PostprocessorFunc(func(ctx context.Context, m module.Module, runErr error) error {
		exec := event.Execution{
			ID:      task.ExecutionID(ctx),
			Module:  m.Info().Name(),
			Status:  event.StatusSucceeded,
			Outputs: module.OutputValues(m),
		}
		if runErr != nil {
			exec.Status = event.StatusFailed
			exec.Error = runErr.Error()
		}
		return pub.Publish(ctx, event.NewModuleExecuted(exec))
	})
}

// Uploader stores archived results. storage.AzureBlobClient implements it.
type Uploader interface {
	UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
}

type archiveRecord struct {
	Execution string         `json:"execution_id,omitempty"`
	Module    string         `json:"module"`
	Inputs    map[string]any `json:"inputs"`
	Outputs   map[string]any `json:"outputs"`
	Error     string         `json:"error,omitempty"`
}

// Archive uploads the inputs and outputs of every run as a JSON document
// named "<prefix>/<module>/<execution id>.json".
func Archive(up Uploader, prefix string) Postprocessor {
	return PostprocessorFunc(func(ctx context.Context, m module.Module, runErr error) error {
		rec := archiveRecord{
			Execution: task.ExecutionID(ctx),
			Module:    m.Info().Name(),
			Inputs:    module.InputValues(m),
			Outputs:   module.OutputValues(m),
		}
		if runErr != nil {
			rec.Error = runErr.Error()
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode archive record: %w", err)
		}

		name := rec.Execution
		if name == "" {
			name = "latest"
		}
		blobPath := path.Join(prefix, m.Info().Name(), name+".json")
		_, err = up.UploadResult(ctx, blobPath, data, map[string]string{
			"module":       rec.Module,
			"execution_id": rec.Execution,
		})
		return err
	})
}
