package server

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

// errorCode classifies err for both transports.
func errorCode(err error) codes.Code {
	var schemaErr *schema.SchemaError
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, common.ErrInternal):
		return codes.Internal
	case errors.Is(err, common.ErrInvalidInput), errors.As(err, &schemaErr):
		return codes.InvalidArgument
	case errors.Is(err, common.ErrNotFound):
		return codes.NotFound
	case common.HasCode(err, "FAILED_PRECONDITION"),
		errors.Is(err, flatten.ErrFlatteningLimitation),
		errors.Is(err, record.ErrMissingField), errors.Is(err, record.ErrTypeMismatch):
		return codes.FailedPrecondition
	case errors.Is(err, common.ErrUnavailable):
		return codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

func httpStatus(err error) int {
	switch errorCode(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.FailedPrecondition:
		if common.HasCode(err, "FAILED_PRECONDITION") {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// grpcError converts a service error to a status error. Internal details are not leaked.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch code := errorCode(err); code {
	case codes.InvalidArgument:
		return common.InvalidArgumentError(err.Error())
	case codes.NotFound:
		return common.NotFoundError(err.Error())
	case codes.FailedPrecondition:
		return common.FailedPreconditionError(err.Error())
	case codes.Unavailable:
		return common.UnavailableError(err.Error())
	case codes.Internal:
		return common.InternalError("internal error")
	default:
		return status.Error(code, err.Error())
	}
}
