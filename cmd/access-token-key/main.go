// Package main generates retro access token keys, or mints a development
// token with -mint.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/louisbranch/retroboard/internal/platform/config"
	"github.com/louisbranch/retroboard/internal/tools/accesstoken"
)

func main() {
	mint := flag.Bool("mint", false, "mint a token signed with RETROBOARD_ACCESS_TOKEN_PRIVATE_KEY")
	subject := flag.String("sub", "", "token subject (user id)")
	username := flag.String("username", "", "token display name")
	issuer := flag.String("issuer", os.Getenv("RETROBOARD_ACCESS_TOKEN_ISSUER"), "token issuer")
	audience := flag.String("audience", os.Getenv("RETROBOARD_ACCESS_TOKEN_AUDIENCE"), "token audience")
	ttl := flag.Duration("ttl", accesstoken.DefaultTTL, "token lifetime")
	flag.Parse()

	if !*mint {
		if err := accesstoken.GenerateKeys(os.Stdout, nil); err != nil {
			config.Exitf("generate access token key: %v", err)
		}
		return
	}
	token, err := accesstoken.Mint(accesstoken.MintInput{
		PrivateKey: os.Getenv("RETROBOARD_ACCESS_TOKEN_PRIVATE_KEY"),
		Issuer:     *issuer,
		Audience:   *audience,
		Subject:    *subject,
		Username:   *username,
		TTL:        *ttl,
	})
	if err != nil {
		config.Exitf("mint access token: %v", err)
	}
	fmt.Println(token)
}
