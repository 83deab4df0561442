// Package replication bootstraps replication between a joining node and an
// existing peer.
//
// A bootstrap walks init, credential_selected, agreement_established and
// optionally consistency_check_pending before reaching done. Any failure
// moves the machine to failed, which is absorbing. Credential choice is
// driven by the cluster domain level: the floor level binds directly with
// the directory administrator secret, higher levels use the node's own
// service identity.
package replication
