package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/rudransh-shrivastava/peer-drop/internal/peer"
	"github.com/rudransh-shrivastava/peer-drop/internal/protocol"
	"github.com/rudransh-shrivastava/peer-drop/internal/transport"
)

var (
	ErrItemTooLarge       = errors.New("item exceeds maximum size")
	ErrTransferTimeout    = errors.New("transfer timed out")
	ErrIncompleteTransfer = errors.New("connection closed before transfer completed")
	ErrTransferAborted    = errors.New("sender aborted the transfer")
	ErrNoItems            = errors.New("nothing to send")
)

type tooLargeError struct {
	Name string
	Size int64
	Max  int64
}

func (e *tooLargeError) Error() string {
	return fmt.Sprintf("%s is %s, larger than the %s limit",
		e.Name, humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Max)))
}

func (e *tooLargeError) Unwrap() error { return ErrItemTooLarge }

// StatusMessage renders err as a single line for the user.
func StatusMessage(err error) string {
	var large *tooLargeError
	switch {
	case err == nil:
		return "Transfer complete"
	case errors.As(err, &large):
		return fmt.Sprintf("File too large: %s", large.Error())
	case errors.Is(err, ErrTransferTimeout):
		return "Transfer timed out: the sender stopped responding"
	case errors.Is(err, ErrIncompleteTransfer):
		return "Transfer interrupted: the connection closed before all data arrived"
	case errors.Is(err, ErrTransferAborted):
		return "Transfer cancelled by the sender"
	case errors.Is(err, ErrNoItems):
		return "Nothing to send"
	case errors.Is(err, peer.ErrTimeout):
		return "Connection timed out: the device did not answer"
	case errors.Is(err, peer.ErrIdentityExhausted):
		return "Could not claim a peer address, try again later"
	case errors.Is(err, peer.ErrInvalidAddress):
		return "Invalid device address"
	case errors.Is(err, transport.ErrPeerUnavailable), errors.Is(err, peer.ErrConnectFailed):
		return "Could not connect: the device is offline or unreachable"
	case errors.Is(err, transport.ErrClosed):
		return "Connection lost"
	case errors.Is(err, protocol.ErrMalformed):
		return "Transfer failed: received invalid data"
	case errors.Is(err, context.Canceled):
		return "Transfer cancelled"
	default:
		return fmt.Sprintf("Transfer failed: %v", err)
	}
}
