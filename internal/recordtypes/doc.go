// Package recordtypes defines the plugin contract record types implement and
// the closed registry that resolves a record_type discriminator to its
// handler.
//
// The core never inspects a record type's scientific payload; it only relies
// on BuildRecord for submission, Children for recursive delete, and (for
// service-backed types) the Initialize/Iterate workflow hooks. Concrete
// handlers live in subpackages.
package recordtypes
