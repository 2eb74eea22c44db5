package cmd

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/core/store"
	apperrors "github.com/deadlinecal/deadlinecal/internal/errors"
	"github.com/deadlinecal/deadlinecal/internal/pathguard"
)

// ExitCodeFor maps a command error onto a foundry exit code.
func ExitCodeFor(err error) foundry.ExitCode {
	var escape *pathguard.PathEscapeError
	var unavailable *store.StoreUnavailableError
	var envelope *errors.ErrorEnvelope

	switch {
	case err == nil:
		return foundry.ExitCode(0)
	case stderrors.As(err, &escape):
		return foundry.ExitConfigInvalid
	case stderrors.As(err, &unavailable):
		return foundry.ExitExternalServiceUnavailable
	case stderrors.As(err, &envelope) && envelope.Code == apperrors.CodeConfigInvalid:
		return foundry.ExitConfigInvalid
	case stderrors.As(err, &envelope) && envelope.Code == apperrors.CodeServiceUnavailable:
		return foundry.ExitExternalServiceUnavailable
	case stderrors.Is(err, errConfig):
		return foundry.ExitConfigInvalid
	case stderrors.Is(err, os.ErrNotExist):
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitFailure
	}
}

// errConfig marks configuration failures for ExitCodeFor.
var errConfig = stderrors.New("invalid configuration")

func configError(err error) error {
	return fmt.Errorf("%w: %w", errConfig, err)
}

// ExitWithCode logs err with the exit code metadata and exits. logger may
// be nil for failures before logging is initialized.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		os.Exit(int(exitCode))
	}

	if logger == nil {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) {
		fields = append(fields,
			zap.String("error_code", envelope.Code),
			zap.String("correlation_id", envelope.CorrelationID),
		)
		if envelope.Context != nil {
			fields = append(fields, zap.Any("error_context", envelope.Context))
		}
	}

	fields = append(fields, zap.Error(err))
	logger.Error(msg, fields...)
	os.Exit(info.Code)
}

// ExitWithCodeStderr writes to stderr without a logger and exits.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}

	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		os.Exit(int(exitCode))
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	os.Exit(info.Code)
}
