package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const pairCreatedEvent = "PairCreated"

// PairCreated is a decoded factory PairCreated log.
type PairCreated struct {
	Token0      common.Address
	Token1      common.Address
	Pair        common.Address
	Index       *big.Int
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// PairCreatedTopic returns the event signature hash used as topic0.
func PairCreatedTopic() (common.Hash, error) {
	parsed, err := FactoryABI()
	if err != nil {
		return common.Hash{}, err
	}
	return parsed.Events[pairCreatedEvent].ID, nil
}

// DecodePairCreated decodes a factory PairCreated log.
func DecodePairCreated(log types.Log) (PairCreated, error) {
	parsed, err := FactoryABI()
	if err != nil {
		return PairCreated{}, err
	}
	event := parsed.Events[pairCreatedEvent]
	if len(log.Topics) != 3 || log.Topics[0] != event.ID {
		return PairCreated{}, fmt.Errorf("not a PairCreated log: tx %s index %d", log.TxHash.Hex(), log.Index)
	}

	values, err := parsed.Unpack(pairCreatedEvent, log.Data)
	if err != nil {
		return PairCreated{}, fmt.Errorf("unpack PairCreated: %w", err)
	}
	if len(values) != 2 {
		return PairCreated{}, fmt.Errorf("unexpected PairCreated data length %d", len(values))
	}
	pair, err := asAddress(values[0])
	if err != nil {
		return PairCreated{}, err
	}
	index, err := asBigInt(values[1])
	if err != nil {
		return PairCreated{}, err
	}

	return PairCreated{
		Token0:      common.BytesToAddress(log.Topics[1].Bytes()),
		Token1:      common.BytesToAddress(log.Topics[2].Bytes()),
		Pair:        pair,
		Index:       index,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}, nil
}
