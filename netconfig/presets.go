package netconfig

import "github.com/rawblock/lightwallet/chain"

// Mainnet is the built-in production network profile.
var Mainnet = Network{
	Name:             "mainnet",
	Ticker:           "XCH",
	Precision:        defaultPrecision,
	DefaultPort:      8444,
	GenesisChallenge: mustHash("ccd5bb71183532bff220ba46c268991a3ff07eb358e8255a65c30a2dce0e5fbb"),
	Inherit:          InheritMainnet,
	AdditionalDNSIntroducers: []string{
		"dns-introducer.chia.net",
		"chia.ctrlaltdel.ch",
		"seeder.dexie.space",
		"chia.hoffmang.com",
	},
	AdditionalPeerIntroducers: []string{"introducer.chia.net"},
}

// Testnet11 is the built-in test network profile.
var Testnet11 = Network{
	Name:                      "testnet11",
	Ticker:                    "TXCH",
	Precision:                 defaultPrecision,
	DefaultPort:               58444,
	GenesisChallenge:          mustHash("37a90eb5185a9c4439a91ddc98bbadce7b4feba060d50116a067de66bf236615"),
	Inherit:                   InheritTestnet11,
	AdditionalDNSIntroducers:  []string{"dns-introducer-testnet11.chia.net"},
	AdditionalPeerIntroducers: []string{"introducer-testnet11.chia.net"},
}

func mustHash(hex string) chain.Hash {
	h, err := chain.HashFromHex(hex)
	if err != nil {
		panic("netconfig: invalid built-in genesis challenge: " + err.Error())
	}
	return h
}
