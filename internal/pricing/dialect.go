package pricing

import (
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethhab/whaletrace/internal/domain"
)

// Event topics the decoder recognizes, as emitted by the router families we
// support. Adding a router family means adding a Dialect, not branching
// logic in the resolver.
const (
	topicTransfer    = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	topicUniswapV2   = "0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822"
	topicUniswapV3   = "0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"
	topicCurveExch   = "0x8b3e96f2b889fa771c53c981b40daf005f63f637f1869f707052d15a3dd97140"
	topicBalancerV2  = "0x2170c741c41531aec20e7c107c24eecfdd15e69c9bb0a8dd37b1840b9e0b207b"
	defaultTokenDecs = 18
)

// swapLeg is one token movement touching the wallet, extracted from a
// receipt's logs. Amounts are in token units (already scaled by decimals).
type swapLeg struct {
	Token       string
	Counterpart string
	Amount      float64
	LogIndex    uint
	In          bool
}

// Dialect decodes the logs of one router family into swap legs. Matches
// reports whether a receipt looks like this family's swap; Legs extracts the
// wallet's token movements.
type Dialect interface {
	Name() string
	Matches(r domain.Receipt) bool
	Legs(r domain.Receipt, wallet string) []swapLeg
}

// topicDialect recognizes receipts by the presence of a family-specific swap
// event topic and extracts legs from the accompanying ERC-20 Transfer logs,
// which every supported family emits for the actual token movements.
type topicDialect struct {
	name     string
	topic    string
	registry *domain.AddressRegistry
}

func (d *topicDialect) Name() string { return d.name }

func (d *topicDialect) Matches(r domain.Receipt) bool {
	for _, lg := range r.Logs {
		if len(lg.Topics) > 0 && strings.EqualFold(lg.Topics[0], d.topic) {
			return true
		}
	}
	return false
}

func (d *topicDialect) Legs(r domain.Receipt, wallet string) []swapLeg {
	return transferLegs(r, wallet, d.registry)
}

// DefaultDialects returns the known router dialects in match priority order.
func DefaultDialects(registry *domain.AddressRegistry) []Dialect {
	return []Dialect{
		&topicDialect{name: "uniswap_v2", topic: topicUniswapV2, registry: registry},
		&topicDialect{name: "uniswap_v3", topic: topicUniswapV3, registry: registry},
		&topicDialect{name: "curve", topic: topicCurveExch, registry: registry},
		&topicDialect{name: "balancer_v2", topic: topicBalancerV2, registry: registry},
	}
}

// transferLegs extracts the wallet's ERC-20 Transfer movements from a
// receipt. The emitting contract is the token; topics 1 and 2 carry the
// from/to addresses left-padded to 32 bytes.
func transferLegs(r domain.Receipt, wallet string, registry *domain.AddressRegistry) []swapLeg {
	wallet = strings.ToLower(wallet)
	var legs []swapLeg

	for _, lg := range r.Logs {
		if len(lg.Topics) < 3 || !strings.EqualFold(lg.Topics[0], topicTransfer) {
			continue
		}
		from := topicAddress(lg.Topics[1])
		to := topicAddress(lg.Topics[2])
		if from != wallet && to != wallet {
			continue
		}

		token := strings.ToLower(lg.Address)
		amount := scaleAmount(lg.Data, tokenDecimals(registry, token))
		if amount <= 0 {
			continue
		}

		leg := swapLeg{
			Token:    token,
			Amount:   amount,
			LogIndex: lg.Index,
			In:       to == wallet,
		}
		if leg.In {
			leg.Counterpart = from
		} else {
			leg.Counterpart = to
		}
		legs = append(legs, leg)
	}

	return legs
}

// topicAddress extracts the lowercase address from a 32-byte indexed topic.
func topicAddress(topic string) string {
	h := common.HexToHash(topic)
	return strings.ToLower(common.BytesToAddress(h.Bytes()).Hex())
}

// scaleAmount converts a big-endian uint256 log payload to token units.
func scaleAmount(data []byte, decimals uint8) float64 {
	if len(data) == 0 {
		return 0
	}
	raw, _ := new(big.Float).SetInt(new(big.Int).SetBytes(data)).Float64()
	return raw / math.Pow10(int(decimals))
}

// tokenDecimals returns the known decimals for a token, defaulting to 18 for
// tokens outside the stable registry (the overwhelmingly common case).
func tokenDecimals(registry *domain.AddressRegistry, token string) uint8 {
	if dec, ok := registry.StableDecimals(token); ok {
		return dec
	}
	return defaultTokenDecs
}
