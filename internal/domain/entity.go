// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"time"
)

// EntityCategory classifies a network participant.
type EntityCategory string

const (
	CategoryIndividual EntityCategory = "individual"
	CategoryBusiness   EntityCategory = "business"
	CategoryMule       EntityCategory = "mule"
	CategoryShell      EntityCategory = "shell"
)

// Code returns the fixed numeric encoding used in the feature matrix.
func (c EntityCategory) Code() float64 {
	switch c {
	case CategoryBusiness:
		return 1
	case CategoryMule:
		return 2
	case CategoryShell:
		return 3
	default:
		return 0
	}
}

// NormalCategories are the categories assigned to background entities.
var NormalCategories = []EntityCategory{CategoryIndividual, CategoryBusiness}

// SuspiciousCategories are the categories assigned to laundering participants.
var SuspiciousCategories = []EntityCategory{CategoryMule, CategoryShell}

// Entity is a node in the transaction network.
//
// Suspicious is ground truth set only by the generator. RiskScore and
// Attributions are populated by the classifier and explainer stages.
type Entity struct {
	ID           string             `json:"id"`
	Category     EntityCategory     `json:"category"`
	Country      string             `json:"country"`
	Suspicious   bool               `json:"suspicious"`
	ClusterID    string             `json:"clusterId,omitempty"`
	RiskScore    float64            `json:"riskScore"`
	Attributions map[string]float64 `json:"attributions,omitempty"`
}

// Channel is the payment channel a transaction moved through.
type Channel string

const (
	ChannelWire   Channel = "wire"
	ChannelCash   Channel = "cash"
	ChannelCrypto Channel = "crypto"
	ChannelACH    Channel = "ach"
	ChannelCheck  Channel = "check"
	ChannelSwift  Channel = "swift"
)

// Channels lists all payment channels in a fixed order.
var Channels = []Channel{ChannelWire, ChannelCash, ChannelCrypto, ChannelACH, ChannelCheck, ChannelSwift}

// HighRiskChannels are channels with elevated laundering exposure.
var HighRiskChannels = []Channel{ChannelCash, ChannelCrypto}

// IsHighRiskChannel reports whether ch carries elevated laundering exposure.
func IsHighRiskChannel(ch Channel) bool {
	return ch == ChannelCash || ch == ChannelCrypto
}

// Countries is the fixed country universe, high-risk jurisdictions included.
var Countries = []string{
	"US", "GB", "DE", "FR", "NL", "CH", "SG", "HK", "AE", "PA",
	"VG", "KY", "LU", "MT", "CY", "LI", "MH", "BZ", "WS", "SC",
}

// HighRiskCountries are jurisdictions commonly used for layering and
// beneficial-ownership concealment. Order is fixed so seeded draws are
// reproducible.
var HighRiskCountries = []string{"PA", "VG", "KY", "MH", "BZ", "WS", "SC", "AE", "LI"}

// NormalCountries is Countries minus HighRiskCountries, original order kept.
var NormalCountries = func() []string {
	out := make([]string, 0, len(Countries))
	for _, c := range Countries {
		if !IsHighRiskCountry(c) {
			out = append(out, c)
		}
	}
	return out
}()

var highRiskCountrySet = func() map[string]bool {
	m := make(map[string]bool, len(HighRiskCountries))
	for _, c := range HighRiskCountries {
		m[c] = true
	}
	return m
}()

// IsHighRiskCountry reports whether code is in the fixed high-risk set.
func IsHighRiskCountry(code string) bool {
	return highRiskCountrySet[code]
}

// Risk flags derived from transaction attributes. They feed the feature
// matrix and are deliberately decoupled from the ground-truth label.
const (
	FlagStructuringThreshold = "structuring_threshold"
	FlagHighRiskChannel      = "high_risk_channel"
	FlagHighRiskCountry      = "high_risk_country"
	FlagLargeValue           = "large_value"
)

// Transaction is a directed edge in the network. Immutable once created.
type Transaction struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"sourceId"`
	DestID     string    `json:"destId"`
	Amount     float64   `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
	Channel    Channel   `json:"channel"`
	Country    string    `json:"country"`
	RiskFlags  []string  `json:"riskFlags,omitempty"`
	Suspicious bool      `json:"suspicious"`
}
