package kroxy

// Kafka API keys the core special-cases directly. All other api keys flow
// through the generic kmsg-backed decode/encode path; these are called out
// because the spec (§4.1, §4.4, §9) gives them bespoke handling.
const (
	apiKeyProduce          int16 = 0
	apiKeyFetch            int16 = 1
	apiKeyMetadata         int16 = 3
	apiKeyFindCoordinator  int16 = 10
	apiKeyCreateTopics     int16 = 19
	apiKeySaslHandshake    int16 = 17
	apiKeyApiVersions      int16 = 18
	apiKeySaslAuthenticate int16 = 36
)
