// Package auth validates the access tokens Gray Logic Core issues and maps
// their roles to bridge permissions.
//
// Tokens are HS256 JWTs signed with the site's shared secret. The role claim
// selects a static permission set:
//
//	panel, user   entity:read, entity:operate
//	admin, owner  entity:read, entity:operate, bridge:inspect
package auth
