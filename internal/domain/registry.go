package domain

import "strings"

// zeroAddress is never a meaningful counterparty.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// AddressRegistry is an immutable lookup table of known DEX routers, CEX hot
// wallets, excluded contracts, and stable-valued tokens. It is loaded once
// per run and passed explicitly into the pricing and discovery components;
// there is no ambient global registry state.
type AddressRegistry struct {
	routers  map[string]string
	cexes    map[string]string
	excluded map[string]struct{}
	stables  map[string]uint8
}

// NewAddressRegistry builds a registry from address->name maps for routers
// and CEXes, an exclusion list, and an address->decimals map for stables.
// All addresses are normalized to lowercase.
func NewAddressRegistry(routers, cexes map[string]string, excluded []string, stables map[string]uint8) *AddressRegistry {
	r := &AddressRegistry{
		routers:  make(map[string]string, len(routers)),
		cexes:    make(map[string]string, len(cexes)),
		excluded: make(map[string]struct{}, len(excluded)),
		stables:  make(map[string]uint8, len(stables)),
	}
	for addr, name := range routers {
		r.routers[strings.ToLower(addr)] = name
	}
	for addr, name := range cexes {
		r.cexes[strings.ToLower(addr)] = name
	}
	for _, addr := range excluded {
		r.excluded[strings.ToLower(addr)] = struct{}{}
	}
	for addr, dec := range stables {
		r.stables[strings.ToLower(addr)] = dec
	}
	return r
}

// RouterName returns the protocol name of a known DEX router.
func (r *AddressRegistry) RouterName(addr string) (string, bool) {
	name, ok := r.routers[strings.ToLower(addr)]
	return name, ok
}

// Routers returns the known router addresses (lowercase).
func (r *AddressRegistry) Routers() []string {
	out := make([]string, 0, len(r.routers))
	for addr := range r.routers {
		out = append(out, addr)
	}
	return out
}

// CEXName returns the exchange name of a known CEX hot wallet.
func (r *AddressRegistry) CEXName(addr string) (string, bool) {
	name, ok := r.cexes[strings.ToLower(addr)]
	return name, ok
}

// CEXes returns the known CEX addresses (lowercase).
func (r *AddressRegistry) CEXes() []string {
	out := make([]string, 0, len(r.cexes))
	for addr := range r.cexes {
		out = append(out, addr)
	}
	return out
}

// StableDecimals returns the decimals of a recognized stable-valued token.
func (r *AddressRegistry) StableDecimals(addr string) (uint8, bool) {
	dec, ok := r.stables[strings.ToLower(addr)]
	return dec, ok
}

// Excluded reports whether an address can never be a smart-money candidate:
// explicitly excluded contracts, CEX wallets, the routers themselves, and
// the zero address.
func (r *AddressRegistry) Excluded(addr string) bool {
	a := strings.ToLower(addr)
	if a == "" || a == zeroAddress {
		return true
	}
	if _, ok := r.excluded[a]; ok {
		return true
	}
	if _, ok := r.cexes[a]; ok {
		return true
	}
	_, ok := r.routers[a]
	return ok
}
