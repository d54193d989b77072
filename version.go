package kahlabot

// VERSION is the build version, injected with -ldflags "-X github.com/tgifai/kahlabot.VERSION=...".
var VERSION = "n/a"

// APIVersion is the Kahla server API version this client speaks.
const APIVersion = "3.4.0"
