package main

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"shieldtrade/internal/binding"
	"shieldtrade/internal/logger"
)

type deploymentView struct {
	ChainID   uint64 `json:"chainId"`
	ChainName string `json:"chainName,omitempty"`
	Address   string `json:"address,omitempty"`
	Deployed  bool   `json:"deployed"`
	Message   string `json:"message,omitempty"`
}

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "Print the resolved ShieldTrade binding for every configured chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver := binding.NewResolver(appConfig.Deployments, logger.Log)

		ids := resolver.ChainIDs()
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		views := make([]deploymentView, 0, len(ids))
		for _, id := range ids {
			b := resolver.Resolve(&id)
			v := deploymentView{ChainID: id, ChainName: b.ChainName, Deployed: b.Deployed()}
			if b.Deployed() {
				v.Address = b.Address.Hex()
			} else {
				v.Message = b.NotDeployedMessage()
			}
			views = append(views, v)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	},
}
