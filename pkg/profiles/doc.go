// Package profiles stores the local profile of each verified user.
//
// A profile is created the first time a user presents a valid token
// (Store.Provision, called from the auth middleware) and is the row that
// memberships and role assignments reference. Claims only seed a new profile;
// afterwards the profile is edited by its owner alone. Deleting it cascades
// to the user's memberships and role assignments.
package profiles
