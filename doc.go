// Package plugins discovers modules packaged as zip files, activates them in
// dependency order and keeps track of which ones loaded, failed or were
// disabled by the user.
// Go modules are ran through Yaegi (https://github.com/traefik/yaegi), the Go interpreter,
// Lua modules through gopher-lua, and builtin modules are compiled into the host.
//
// How it Works
//
// Modules are zip files saved to a specified folder (e.g. /usr/lib/program/plugins).
// Discover reads the metadata of every file in that folder with the configured extension.
// Files whose metadata cannot be read are kept in the Failed view with the description
// "Invalid meta data structure.".
// Files listed in the exclusion set (persisted through an ExclusionStore) go to the Disabled view,
// every other file goes to the Enabled view and starts out in the Failed view.
//
// Enabled modules are then sorted by their index and put in a queue.
// A module is activated once every dependency it lists is active at the required minimum version,
// otherwise it is moved to the back of the queue.
// The queue gets N² attempts for N modules; whatever is left after that fails with ErrDependencyTimeout.
//
// Activating a module means asking the Loader for its runtime for an instance,
// checking that the instance implements the capability its type requires (see the module package),
// and calling Init. A module that passes all three moves from the Failed view to the Loaded view.
// Process modules are handed to a Worker goroutine which owns them from then on.
//
// For Go modules the zip file is extracted into the cache folder under its sha256 hash.
// Cached folders whose zip file is gone are removed after every Discover.
//
// Usage
//
// Usage is rather simple:
//  import "github.com/chabad360/plugins/v2"
//
//  func main() {
//  	ctx := context.Background()
//  	host, err := plugins.NewPluginHost(ctx, plugins.WithExclusionStore(plugins.NewFileStore("./settings.yml")))
//  	if err != nil {
//  		panic(err)
//  	}
//  	defer host.Shutdown()
//
//  	unsubscribe := host.Subscribe(func(e plugins.Event) {
//  		fmt.Printf("%3d%% %s\n", e.Percent, e.Message)
//  	})
//  	defer unsubscribe()
//
//  	n, err := host.Discover(ctx, "./plugins")
//  	if err != nil {
//  		panic(err)
//  	}
//  	fmt.Println(n, "modules loaded")
//
//  	if d, ok := host.FindByName("greeter"); ok {
//  		// This can be done safely, because Discover checked the capability.
//  		d.Handle().Module().(Greeter).Greet("Hello")
//  	}
//  }
//
// Module Format
//
// Modules are zip files with the following structure:
//  module.zip/ (name is arbitrary)
//   └ moduleFolder/ (optional, name is arbitrary)
//      ├ plugin.yml (or plugin.yaml, plugin.json)
//      ├ vendor/ (required if a Go module has non-stdlib dependencies)
//      ├ go.mod
//      ├ main.go (name is arbitrary)
//      ┊
//
// plugin.yml example:
//  name: Greeter
//  version: 1.2
//  type: Optional
//  description: This is a module that does module things.
//  vendor: Example Inc.
//  index: 10
//  import: github.com/user/greeter
//  dependencies:
//    - name: Net
//      version: 1.0
//    - Log
//
// name, version, type and description are required.
// runtime is "go" unless set to "lua" or "builtin".
package plugins
