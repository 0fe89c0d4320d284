// Package distributor shares a new group session key with each recipient
// device over its pairwise session.
package distributor
