package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// VotingSystemABI is the interface of the deployed election contract.
const VotingSystemABI = `[
  {"type":"function","name":"electionName","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"startTime","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"endTime","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"totalVotes","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"maxVotesPerVoter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"electionStarted","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"admin","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"voters","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"authorized","type":"bool"},{"name":"votesCast","type":"uint256"}]},
  {"type":"function","name":"getAllCandidates","stateMutability":"view","inputs":[],"outputs":[{"name":"ids","type":"uint256[]"},{"name":"names","type":"string[]"},{"name":"votes","type":"uint256[]"}]},
  {"type":"function","name":"getWinner","stateMutability":"view","inputs":[],"outputs":[{"name":"winnerId","type":"uint256"},{"name":"winnerName","type":"string"},{"name":"winnerVotes","type":"uint256"}]},
  {"type":"function","name":"hasVotedFor","stateMutability":"view","inputs":[{"name":"voter","type":"address"},{"name":"candidateId","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"vote","stateMutability":"nonpayable","inputs":[{"name":"candidateId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"revokeVote","stateMutability":"nonpayable","inputs":[{"name":"candidateId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"changeVote","stateMutability":"nonpayable","inputs":[{"name":"oldCandidateId","type":"uint256"},{"name":"newCandidateId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"voteMultiple","stateMutability":"nonpayable","inputs":[{"name":"candidateIds","type":"uint256[]"}],"outputs":[]},
  {"type":"function","name":"addCandidate","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"}],"outputs":[]},
  {"type":"function","name":"addMultipleCandidates","stateMutability":"nonpayable","inputs":[{"name":"names","type":"string[]"}],"outputs":[]},
  {"type":"function","name":"removeCandidate","stateMutability":"nonpayable","inputs":[{"name":"candidateId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"authorize","stateMutability":"nonpayable","inputs":[{"name":"voter","type":"address"}],"outputs":[]},
  {"type":"function","name":"start","stateMutability":"nonpayable","inputs":[{"name":"durationSeconds","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"end","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"restart","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

// ParseABI parses VotingSystemABI.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(VotingSystemABI))
}
