// Package election defines the values mirrored from the voting contract, the
// operations a client can submit against it, and the errors shared by the
// coordinator packages.
package election
