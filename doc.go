// Package geocascade is the engine behind hierarchical address entry forms:
// country, state, district, city, taluk, locality and pincode.
//
// A Coordinator owns one FieldController per field. Typing into a field schedules a
// debounced lookup against a GeoLookupClient; responses that arrive after newer input
// are discarded. Committing a value clears every field after it. Committing a pincode
// back-fills the address above it, and committing a city with no pincode runs the
// PincodeResolver, which tries progressively looser searches and either commits the
// single match, offers a short list or asks the user to type.
//
// The committed address is a LocationRecord value. It is replaced wholesale on every
// change and handed to the OnChange callback once per settled user action.
//
// Lookup backends live in the memstore (embedded dataset), sqlstore (PostgreSQL) and
// geoclient (HTTP) packages; lookupcache wraps any of them with an in-process and a
// Redis cache.
package geocascade
