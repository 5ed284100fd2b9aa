package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on local IPC requests.
const AccessTokenHeaderName = "access_token"

// AppName is used for the keyring service, data directory and env prefix.
const AppName = "clipkeeper"
