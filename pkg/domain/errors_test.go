package domain

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
)

func TestStatusUnwrapsCause(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrPasteNotFound, http.StatusNotFound},
		{errors.Wrap(ErrStorageUnavailable, "increment counter"), http.StatusServiceUnavailable},
		{errors.Wrapf(ErrAlreadyRedacted, "paste %d", 3), http.StatusConflict},
		{ErrForbidden, http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestToRespHidesUnknownErrors(t *testing.T) {
	resp := ToResp(errors.New("sql: database is locked"))
	if resp.Error.Code != "INTERNAL_ERROR" || resp.Error.Msg != "internal error" {
		t.Errorf("resp = %+v", resp)
	}
	resp = ToResp(errors.Wrap(ErrPolicyRejection, "link ratio"))
	if resp.Error.Code != "REJECTED" {
		t.Errorf("resp = %+v", resp)
	}
}
