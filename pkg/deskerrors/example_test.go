package deskerrors_test

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := deskerrors.New(deskerrors.ErrorTypeSink, "bigquery insert failed").
		WithDetail("table", "raw.tickets").
		WithDetail("rows", 100)

	fmt.Println(err.Error())

	// Output:
	// sink: bigquery insert failed
}

// ExampleWrap shows how to wrap an underlying error and test for it.
func ExampleWrap() {
	err := deskerrors.Wrap(io.ErrUnexpectedEOF, deskerrors.ErrorTypeConnection, "reading response body")

	if deskerrors.IsRetryable(err) {
		fmt.Println("retryable")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("caused by unexpected EOF")
	}

	// Output:
	// retryable
	// caused by unexpected EOF
}

// ExampleStatusCode shows how the upstream status survives wrapping.
func ExampleStatusCode() {
	err := deskerrors.Wrap(
		deskerrors.Upstream(http.StatusNotFound, "GET /tickets/9/comments.json returned 404"),
		deskerrors.ErrorTypeData,
		"fetching comments",
	)

	fmt.Println(deskerrors.StatusCode(err))
	fmt.Println(deskerrors.HasType(err, deskerrors.ErrorTypeUpstream))
	fmt.Println(deskerrors.IsType(err, deskerrors.ErrorTypeUpstream))

	// Output:
	// 404
	// true
	// false
}
