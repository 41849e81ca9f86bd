package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Wallet is the user's signing capability. Signatures are 65 bytes with
// v in {27, 28}. Implementations should honour ctx cancellation; a user
// may never answer the prompt.
type Wallet interface {
	Address() common.Address
	SignMessage(ctx context.Context, text string) ([]byte, error)
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}
