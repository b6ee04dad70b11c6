package destinations

import (
	"sync"

	"github.com/tokenflow/harvester/schema"
	"github.com/tokenflow/harvester/utils"
)

var logger = utils.HarvestLogger("destinations")

// Destination consumes batches of transfer records from the channel handed
// to Initialize until it is closed. Batches arrive already deduplicated on
// the transfer hash.
type Destination interface {
	Initialize(source schema.Transfers, recordChannel chan []schema.TransferRecord)
	StartProcess(waitGroup *sync.WaitGroup)
	GetMaxBlock() int64
	Close()
}
