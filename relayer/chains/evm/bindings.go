package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Contract surfaces mirrored between the two ledgers. The registry holds
// one entry per round (root + metadata cid); the cipher store holds one
// entry per (round, participant). Both revert on duplicate keys, which
// the submitter treats as idempotent success.
const registryABIJSON = `[
  {"type":"event","name":"RoundRegistered","anonymous":false,"inputs":[
    {"name":"roundId","type":"uint256","indexed":true},
    {"name":"merkleRoot","type":"bytes32","indexed":false},
    {"name":"metadataCid","type":"string","indexed":false}]},
  {"type":"function","name":"registerRound","stateMutability":"nonpayable","inputs":[
    {"name":"roundId","type":"uint256"},
    {"name":"merkleRoot","type":"bytes32"},
    {"name":"metadataCid","type":"string"}],"outputs":[]},
  {"type":"function","name":"roundExists","stateMutability":"view","inputs":[
    {"name":"roundId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"lastRound","stateMutability":"view","inputs":[],
    "outputs":[{"name":"","type":"uint256"}]}
]`

const cipherStoreABIJSON = `[
  {"type":"event","name":"CipherStored","anonymous":false,"inputs":[
    {"name":"roundId","type":"uint256","indexed":true},
    {"name":"participantId","type":"uint64","indexed":false},
    {"name":"cid","type":"string","indexed":false},
    {"name":"commitment","type":"bytes32","indexed":false}]},
  {"type":"function","name":"storeCipher","stateMutability":"nonpayable","inputs":[
    {"name":"roundId","type":"uint256"},
    {"name":"participantId","type":"uint64"},
    {"name":"cid","type":"string"},
    {"name":"commitment","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"hasCipher","stateMutability":"view","inputs":[
    {"name":"roundId","type":"uint256"},
    {"name":"participantId","type":"uint64"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"cipherCount","stateMutability":"view","inputs":[
    {"name":"roundId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	registryABI    abi.ABI
	cipherStoreABI abi.ABI

	roundRegisteredTopic ethcommon.Hash
	cipherStoredTopic    ethcommon.Hash
)

func init() {
	var err error
	registryABI, err = abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		panic("evm: invalid registry ABI: " + err.Error())
	}
	cipherStoreABI, err = abi.JSON(strings.NewReader(cipherStoreABIJSON))
	if err != nil {
		panic("evm: invalid cipher store ABI: " + err.Error())
	}
	roundRegisteredTopic = registryABI.Events["RoundRegistered"].ID
	cipherStoredTopic = cipherStoreABI.Events["CipherStored"].ID
}

// EventTopics returns the log topics the relayer filters for.
func EventTopics() []ethcommon.Hash {
	return []ethcommon.Hash{roundRegisteredTopic, cipherStoredTopic}
}
