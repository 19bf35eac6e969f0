package repository

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/cashplace/escrow/internal/domain"
)

// encMode uses Core Deterministic Encoding so an unchanged record always
// produces identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("repository: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("repository: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeRecord(record domain.TicketRecord) ([]byte, error) {
	return encMode.Marshal(record)
}

func decodeRecord(data []byte) (domain.TicketRecord, error) {
	var record domain.TicketRecord
	err := decMode.Unmarshal(data, &record)
	return record, err
}
