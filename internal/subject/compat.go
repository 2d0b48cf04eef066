package subject

// FleetServerPrincipal is the service account principal affected by the
// empty limited-by payload bug in 7.14 and earlier.
const FleetServerPrincipal = "elastic/fleet-server"

// FleetServerRoleDescriptorsBytesV714 is the fixed role descriptor payload
// substituted when an API key created by the fleet-server service account on
// 7.14 or earlier carries an empty limited-by payload. This is a one-time
// migration compatibility exception; it must never be updated when the
// fleet-server service account role changes.
var FleetServerRoleDescriptorsBytesV714 = []byte(`{"elastic/fleet-server":{` +
	`"cluster":["monitor","manage_own_api_key"],` +
	`"indices":[` +
	`{"names":["logs-*","metrics-*","traces-*","synthetics-*",` +
	`".logs-endpoint.diagnostic.collection-*"],` +
	`"privileges":["write","create_index","auto_configure"],` +
	`"allow_restricted_indices":false},` +
	`{"names":[".fleet-*"],` +
	`"privileges":["read","write","monitor","create_index","auto_configure"],` +
	`"allow_restricted_indices":false}],` +
	`"applications":[],"run_as":[],"metadata":{}}}`)
