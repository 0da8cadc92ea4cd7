package cloud

var azureProvider = &Provider{
	Kind:     KindAzure,
	Binaries: []string{"az"},

	ReadOnlyVerbs: []string{"list", "list-", "show", "get"},

	BlockRules: []BlockRule{
		{Category: CategoryIdentity, Patterns: []string{
			"ad user create",
			"ad user delete",
			"ad sp create",
			"ad sp delete",
			"ad app create",
			"ad group member add",
			"role assignment create",
			"role assignment delete",
			"role definition create",
		}},
		{Category: CategorySecrets, Patterns: []string{
			"keyvault secret delete",
			"keyvault secret set",
			"keyvault key delete",
			"keyvault key rotate",
			"keyvault delete",
		}},
		{Category: CategoryLogging, Patterns: []string{
			"monitor diagnostic-settings delete",
			"monitor log-profiles delete",
			"monitor activity-log alert delete",
		}},
		{Category: CategoryNetwork, Patterns: []string{
			"network nsg rule create",
			"network nsg delete",
			"network firewall delete",
			"network vnet delete",
		}},
		{Category: CategoryProject, Patterns: []string{
			"account subscription cancel",
			"account management-group delete",
			"group delete",
		}},
		{Category: CategoryCompute, Patterns: []string{
			"vm delete",
			"vmss delete",
			"disk delete",
			"image delete",
			"snapshot delete",
		}},
		{Category: CategoryStorage, Patterns: []string{
			"storage account delete",
			"storage container delete",
			"storage blob delete",
			"storage container set-permission",
		}},
		{Category: CategoryDatabase, Patterns: []string{
			"sql db delete",
			"sql server delete",
			"cosmosdb delete",
			"mysql server delete",
			"postgres server delete",
		}},
	},

	Phrases: []Phrase{
		{"who am i", "az account show"},
		{"show my account", "az account show"},
		{"list subscriptions", "az account list"},
		{"list my subscriptions", "az account list"},
		{"list resource groups", "az group list"},
		{"list groups", "az group list"},
		{"list my vms", "az vm list"},
		{"list vms", "az vm list"},
		{"list virtual machines", "az vm list"},
		{"list running vms", "az vm list -d --query \"[?powerState=='VM running']\""},
		{"list vm sizes", "az vm list-sizes"},
		{"list disks", "az disk list"},
		{"list unencrypted disks", "az disk list --query \"[?encryption.type=='None']\""},
		{"list storage accounts", "az storage account list"},
		{"list storage containers", "az storage container list"},
		{"list public storage", "az storage account list --query \"[?allowBlobPublicAccess]\""},
		{"list key vaults", "az keyvault list"},
		{"list secrets", "az keyvault secret list"},
		{"list users", "az ad user list"},
		{"list service principals", "az ad sp list --all"},
		{"list role assignments", "az role assignment list"},
		{"list roles", "az role definition list"},
		{"list network security groups", "az network nsg list"},
		{"list nsgs", "az network nsg list"},
		{"list nsg rules", "az network nsg rule list"},
		{"list virtual networks", "az network vnet list"},
		{"list public ips", "az network public-ip list"},
		{"list firewalls", "az network firewall list"},
		{"list sql servers", "az sql server list"},
		{"list sql databases", "az sql db list"},
		{"list databases", "az sql db list"},
		{"list cosmos accounts", "az cosmosdb list"},
		{"list aks clusters", "az aks list"},
		{"list kubernetes clusters", "az aks list"},
		{"list function apps", "az functionapp list"},
		{"list web apps", "az webapp list"},
		{"list locations", "az account list-locations"},
	},

	AuthErrorPatterns: []string{
		"az login",
		"Please run 'az login'",
		"AADSTS",
		"No subscription found",
		"Interactive authentication is needed",
	},
	LoginHint: "run `az login` to authenticate with Azure",

	ContextFlags: []string{"--subscription"},
}
