package auth

import (
	"fmt"
	"strings"
)

// ShowAppRegistrationGuide prints how to register the script application
// whose credentials the crawler needs.
func ShowAppRegistrationGuide() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("📚 API APPLICATION SETUP")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Println("The crawler authenticates as a 'script' application acting for one user.")
	fmt.Println()

	fmt.Println("🌐 STEP 1: Open https://www.reddit.com/prefs/apps while logged in")
	fmt.Println("   - Scroll down and click 'create another app...'")
	fmt.Println()

	fmt.Println("🔧 STEP 2: Fill in the form")
	fmt.Println("   - name: anything, e.g. threadcrawl")
	fmt.Println("   - type: select 'script'")
	fmt.Println("   - redirect uri: http://localhost:8080 (unused)")
	fmt.Println()

	fmt.Println("🔑 STEP 3: Copy the credentials")
	fmt.Println("   ┌───────────────┬────────────────────────────────────────────┐")
	fmt.Println("   │ Field         │ Where to find it                           │")
	fmt.Println("   ├───────────────┼────────────────────────────────────────────┤")
	fmt.Println("   │ client id     │ string under 'personal use script'         │")
	fmt.Println("   │ client secret │ value next to 'secret'                     │")
	fmt.Println("   │ username      │ the account listed as developer            │")
	fmt.Println("   │ password      │ that account's password                    │")
	fmt.Println("   └───────────────┴────────────────────────────────────────────┘")
	fmt.Println()

	fmt.Println("💡 TIPS:")
	fmt.Println("   • Accounts with two-factor authentication cannot use the password grant")
	fmt.Println("   • Set a descriptive user agent, e.g. 'threadcrawl/1.0 by u/yourname'")
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
}
