// Package mqtt exports the bot's operational events to an MQTT broker.
//
// Every event published on the [events.Bus] is forwarded as JSON to
// <prefix>/events/<source>/<kind>. A retained availability topic flips
// between "online" and "offline" (the latter via the broker's will
// message on unexpected disconnects), and a retained status document
// with version, uptime and today's token usage is refreshed
// periodically. Connection management and reconnects are handled by
// Eclipse Paho's [autopaho] package.
package mqtt
