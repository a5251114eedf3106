package errors

import (
	stderrors "errors"
	"testing"
)

func TestNewCarriesDefaultMessage(t *testing.T) {
	err := New(EnvironmentNotFound)
	if err.Error() != EnvironmentNotFound.Message() {
		t.Fatalf("message = %q, want code default", err.Error())
	}
	if !Is(err, EnvironmentNotFound) {
		t.Fatal("Is did not match the code")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("daemon unavailable")
	err := Wrap(cause, NetworkProvisionFailed)

	if GetCode(err) != NetworkProvisionFailed {
		t.Fatalf("code = %d, want NetworkProvisionFailed", GetCode(err))
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("cause lost from the chain")
	}
}

func TestWrapReplacesCodeInPlace(t *testing.T) {
	err := Wrap(New(EnvironmentCreateFailed), EnvironmentTeardownError)
	if GetCode(err) != EnvironmentTeardownError {
		t.Fatalf("code = %d, want EnvironmentTeardownError", GetCode(err))
	}
}

func TestWithDetailAccumulates(t *testing.T) {
	err := New(PolicyViolation).
		WithDetail("violations", []string{"a", "b"}).
		WithDetail("environmentId", "env-1")

	if got := err.Details["environmentId"]; got != "env-1" {
		t.Fatalf("environmentId detail = %v", got)
	}
	if got, ok := err.Details["violations"].([]string); !ok || len(got) != 2 {
		t.Fatalf("violations detail = %v", err.Details["violations"])
	}
}

func TestGetCodeOnForeignError(t *testing.T) {
	if got := GetCode(stderrors.New("boom")); got != InternalServerError {
		t.Fatalf("code = %d, want InternalServerError", got)
	}
	if got := GetCode(nil); got != Success {
		t.Fatalf("code for nil = %d, want Success", got)
	}
}

func TestGetErrorCoercesForeignError(t *testing.T) {
	err := GetError(stderrors.New("boom"))
	if err == nil || err.Code != InternalServerError {
		t.Fatalf("coerced error = %+v", err)
	}
	if GetError(nil) != nil {
		t.Fatal("GetError(nil) should be nil")
	}
}

func TestValidationErrorDetails(t *testing.T) {
	err := ValidationError("image", "must not be empty")
	if !Is(err, ValidationFailed) {
		t.Fatalf("code = %d, want ValidationFailed", GetCode(err))
	}
	if err.Details["field"] != "image" || err.Details["reason"] != "must not be empty" {
		t.Fatalf("details = %v", err.Details)
	}
	if status := GetCode(err).HTTPStatus(); status != 400 {
		t.Fatalf("http status = %d, want 400", status)
	}
}
