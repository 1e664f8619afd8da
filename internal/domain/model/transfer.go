package model

import "time"

// TransferRecord is one qualifying inbound token transfer in the feed.
// FromAddress is always lower-cased hex.
type TransferRecord struct {
	FromAddress     string    `json:"from_address"`
	Timestamp       time.Time `json:"timestamp"`
	TransactionHash string    `json:"transaction_hash"`
	Rank            *Rank     `json:"rank,omitempty"`
	Farcaster       *Profile  `json:"farcaster,omitempty"`
}

// Rank is only meaningful once every record of the window is known.
// Position is a recency rank: the newest transfer holds Total, the oldest 1.
type Rank struct {
	Position        int `json:"position"`
	ContributorRank int `json:"contributorRank"`
	Total           int `json:"total"`
	Count           int `json:"count"`
}

// ContributorRanking counts qualifying transfers per unique sender.
type ContributorRanking struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
}
