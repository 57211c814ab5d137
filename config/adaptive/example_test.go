package adaptive_test

import (
	"fmt"
	"log"
	"time"

	"github.com/nino-chavez/perfgov/config/adaptive"
)

// ExampleParse demonstrates overlaying a YAML document on the defaults
func ExampleParse() {
	config, err := adaptive.Parse([]byte(`
quality:
  downgrade_dwell: 3s
content:
  burst_interactions: 8
`))
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("dwell:", config.Quality.DowngradeDwell)
	fmt.Println("recovery window:", config.Quality.UpgradeRecovery)
	fmt.Println("burst interactions:", config.Content.BurstInteractions)

	// Output:
	// dwell: 3s
	// recovery window: 5s
	// burst interactions: 8
}

// ExampleManager demonstrates updating the live configuration
func ExampleManager() {
	manager, err := adaptive.NewManager(nil)
	if err != nil {
		log.Fatal(err)
	}

	next := manager.Config()
	next.Monitoring.AlertCooldown = 10 * time.Second
	if err := manager.Update(next, "example"); err != nil {
		log.Printf("Failed to update config: %v", err)
		return
	}

	fmt.Println("cooldown:", manager.Config().Monitoring.AlertCooldown)

	// Output:
	// cooldown: 10s
}
