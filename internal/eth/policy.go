package eth

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Allowance caps what the delegated session key may spend of one asset.
type Allowance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Policy is the EIP-712 message a wallet signs to delegate to a session key.
type Policy struct {
	Challenge   string
	Scope       string
	Wallet      common.Address
	Application common.Address
	Participant common.Address
	Expire      string
	Allowances  []Allowance
}

var policyTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
	},
	"Policy": {
		{Name: "challenge", Type: "string"},
		{Name: "scope", Type: "string"},
		{Name: "wallet", Type: "address"},
		{Name: "application", Type: "address"},
		{Name: "participant", Type: "address"},
		{Name: "expire", Type: "uint256"},
		{Name: "allowances", Type: "Allowance[]"},
	},
	"Allowance": {
		{Name: "asset", Type: "string"},
		{Name: "amount", Type: "uint256"},
	},
}

// TypedData renders the policy under a domain carrying only the application name.
func (p Policy) TypedData(domainName string) apitypes.TypedData {
	allowances := make([]interface{}, 0, len(p.Allowances))
	for _, a := range p.Allowances {
		allowances = append(allowances, map[string]interface{}{
			"asset":  a.Asset,
			"amount": a.Amount,
		})
	}

	return apitypes.TypedData{
		Types:       policyTypes,
		PrimaryType: "Policy",
		Domain:      apitypes.TypedDataDomain{Name: domainName},
		Message: apitypes.TypedDataMessage{
			"challenge":   p.Challenge,
			"scope":       p.Scope,
			"wallet":      p.Wallet.Hex(),
			"application": p.Application.Hex(),
			"participant": p.Participant.Hex(),
			"expire":      p.Expire,
			"allowances":  allowances,
		},
	}
}
