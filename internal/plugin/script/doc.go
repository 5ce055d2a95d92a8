// Package script loads dashboard plugins written in Lua.
//
// A script plugin is a directory:
//
//	request-counter/
//	├── plugin.yaml   # Manifest
//	└── init.lua      # Entry point
//
// The entry point may define any of these globals:
//
//	function initialize(device_id) end
//	function on_event(evt) end        -- evt.plugin_id, evt.event_type, evt.payload
//	function on_activate() end
//	function on_deactivate() end
//	function render(props) return { title = "..." } end
//	function destroy() end
//
// Scripts run with only the base, table, string and math libraries. File
// and module loading are removed and every call is bounded by a timeout.
package script
