package service

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"github.com/GoodPhotographer/goodphotographer/internal/model"
)

// ArchMismatch is the result of classifying a launch failure.
type ArchMismatch int

const (
	// ArchMismatchNone means the failure is unrelated to the CPU architecture.
	ArchMismatchNone ArchMismatch = iota
	// ArchMismatchPrimary means the processor does not run on a host of the
	// primary build architecture, which points to a damaged installation.
	ArchMismatchPrimary
	// ArchMismatchSecondary means the host is not the primary build
	// architecture and the user needs the other download.
	ArchMismatchSecondary
)

func (m ArchMismatch) String() string {
	switch m {
	case ArchMismatchNone:
		return "none"
	case ArchMismatchPrimary:
		return "primary"
	case ArchMismatchSecondary:
		return "secondary"
	default:
		return fmt.Sprintf("ArchMismatch(%d)", int(m))
	}
}

// archSignatures are the lower case messages operating systems give when
// asked to execute a binary built for another CPU.
var archSignatures = []string{
	"bad cpu type",                  // darwin, EBADARCH
	"exec format error",             // linux, ENOEXEC
	"not a valid win32 application", // windows, ERROR_BAD_EXE_FORMAT
}

// ClassifyLaunchError tells whether err, returned when starting the
// processor, is an architecture mismatch, and which kind.
func ClassifyLaunchError(err error, hostArch, primaryArch string) ArchMismatch {
	if err == nil || !isArchFailure(err) {
		return ArchMismatchNone
	}
	if hostArch != primaryArch {
		return ArchMismatchSecondary
	}
	return ArchMismatchPrimary
}

func isArchFailure(err error) bool {
	if errors.Is(err, syscall.ENOEXEC) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range archSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// LaunchError is returned by Runner.Run for launch failures caused by an
// architecture mismatch. Message is meant for the end user.
type LaunchError struct {
	Mismatch ArchMismatch
	Message  string
	Err      error
}

func (e *LaunchError) Error() string {
	return e.Message
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func archMismatchMessage(m ArchMismatch, hostArch, primaryArch string) string {
	if m == ArchMismatchSecondary {
		return fmt.Sprintf(
			"This copy of GoodPhotographer is built for %s and cannot run its image processor on this %s computer. Download the %s version of GoodPhotographer and reinstall.",
			archName(primaryArch), archName(hostArch), archName(hostArch))
	}
	return fmt.Sprintf(
		"The image processor was built for a different CPU than this %s computer. The installation may be damaged: reinstall GoodPhotographer.",
		archName(hostArch))
}

func archName(arch string) string {
	switch arch {
	case model.ArchARM64:
		return "Apple Silicon (arm64)"
	case model.ArchAMD64:
		return "Intel (x64)"
	default:
		return arch
	}
}
