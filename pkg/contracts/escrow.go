package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EscrowABI is the ABI subset of the escrow contract used to release funds against a payment proof
const EscrowABI = `[
	{
		"inputs": [
			{
				"internalType": "bytes",
				"name": "proof",
				"type": "bytes"
			},
			{
				"internalType": "bytes32",
				"name": "intentHash",
				"type": "bytes32"
			}
		],
		"name": "fulfillIntent",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{
				"indexed": true,
				"internalType": "bytes32",
				"name": "intentHash",
				"type": "bytes32"
			},
			{
				"indexed": true,
				"internalType": "uint256",
				"name": "depositId",
				"type": "uint256"
			},
			{
				"indexed": true,
				"internalType": "address",
				"name": "to",
				"type": "address"
			},
			{
				"indexed": false,
				"internalType": "uint256",
				"name": "amount",
				"type": "uint256"
			}
		],
		"name": "IntentFulfilled",
		"type": "event"
	}
]`

// FulfillIntentMethod is the escrow method releasing an intent's funds
const FulfillIntentMethod = "fulfillIntent"

// Escrow is a Go binding around the escrow contract
type Escrow struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

// ParsedEscrowABI parses EscrowABI
func ParsedEscrowABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(EscrowABI))
}

// NewEscrow creates a new instance of Escrow, bound to a specific deployed contract.
func NewEscrow(address common.Address, backend bind.ContractBackend) (*Escrow, error) {
	parsed, err := ParsedEscrowABI()
	if err != nil {
		return nil, err
	}
	return &Escrow{
		address:  address,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// Address returns the escrow address
func (e *Escrow) Address() common.Address {
	return e.address
}

// PackFulfillIntent encodes the calldata of fulfillIntent, used for eth_call simulation
func (e *Escrow) PackFulfillIntent(proof []byte, intentHash [32]byte) ([]byte, error) {
	return e.abi.Pack(FulfillIntentMethod, proof, intentHash)
}

// FulfillIntent is a paid mutator transaction binding the contract method fulfillIntent.
//
// Solidity: function fulfillIntent(bytes proof, bytes32 intentHash) returns()
func (e *Escrow) FulfillIntent(opts *bind.TransactOpts, proof []byte, intentHash [32]byte) (*types.Transaction, error) {
	return e.contract.Transact(opts, FulfillIntentMethod, proof, intentHash)
}
