package customcheck

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		runErr    error
		parentErr error
		kind      Kind
		rc        int
	}{
		{"clean exit", nil, nil, nil, OK, 0},
		{"clean exit as the deadline passes", nil, context.DeadlineExceeded, nil, OK, 0},
		{"killed at deadline", boom, context.DeadlineExceeded, nil, Timeout, ReturnCodeTimeout},
		{"parent cancelled", boom, context.Canceled, context.Canceled, Failed, ReturnCodeUnknown},
		{"start failure", boom, nil, nil, Failed, ReturnCodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := classify(tt.err, tt.runErr, tt.parentErr, 1, "out", "")
			assert.Equal(t, tt.kind, o.Kind)
			assert.Equal(t, tt.rc, o.ReturnCode)
		})
	}
}
