package chainclient

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// userRejectedCode is the EIP-1193 code for a user declining a request
const userRejectedCode = 4001

var (
	// ErrUserRejected is returned when the signer declines to sign
	ErrUserRejected = errors.New("user rejected the request")
	// ErrTxReverted is returned when a mined transaction has a failed status
	ErrTxReverted = errors.New("transaction reverted")
)

// RevertError is a simulation that reverted on chain
type RevertError struct {
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// rejectionMessages are lowercase fragments signers use when the user declines
var rejectionMessages = []string{
	"user rejected",
	"user denied",
	"request denied",
	"rejected by user",
}

// IsUserRejection reports whether err is a signer declining the request
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range rejectionMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// RevertReason extracts the revert reason from an eth_call error.
// The second result is false when err is not a revert.
func RevertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			raw, decodeErr := hexutil.Decode(data)
			if decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
				// custom error, surface the selector
				if len(raw) >= 4 {
					return hexutil.Encode(raw[:4]), true
				}
			}
		}
	}

	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimPrefix(msg[idx+len("execution reverted"):], ":")
		return strings.TrimSpace(reason), true
	}
	return "", false
}
