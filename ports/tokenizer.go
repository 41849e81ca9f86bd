package ports

import "github.com/somewherelostt/Neom1/core"

// Tokenizer reads credentials issued by the network.
type Tokenizer interface {
	Inspect(token string) (core.Credential, error)
}
