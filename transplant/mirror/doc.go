// Package mirror maintains local working copies of registered
// repositories, kept loosely in sync via a pull TTL.
//
// A mirror is cloned on first use and thereafter refreshed by
// pull when forced or when its last successful pull is older
// than the TTL. The last-pull timestamp lives on disk next to
// the working copy so it survives restarts. All mutating
// operations on a mirror must run under that mirror's lock;
// Cache hands out per-name locks and deduplicates concurrent
// refreshes of the same name.
package mirror
