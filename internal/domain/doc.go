// Package domain defines the data models and contracts shared by the
// session layer. The types subpackage holds plain wire and state types, the
// interfaces subpackage holds contracts, and this package re-exports both
// for compact imports.
package domain
