package cloud

var gcpProvider = &Provider{
	Kind:     KindGCP,
	Binaries: []string{"gcloud", "gsutil"},

	ReadOnlyVerbs: []string{"list", "describe", "get", "get-", "export", "ls"},

	BlockRules: []BlockRule{
		{Category: CategoryIdentity, Patterns: []string{
			"iam service-accounts create",
			"iam service-accounts delete",
			"iam service-accounts keys create",
			"iam roles create",
			"iam roles delete",
			"add-iam-policy-binding",
			"remove-iam-policy-binding",
		}},
		{Category: CategorySecrets, Patterns: []string{
			"secrets delete",
			"secrets versions destroy",
			"kms keys versions destroy",
		}},
		{Category: CategoryLogging, Patterns: []string{
			"logging sinks delete",
			"logging sinks update",
			"logging buckets delete",
		}},
		{Category: CategoryNetwork, Patterns: []string{
			"compute firewall-rules create",
			"compute firewall-rules delete",
			"compute networks delete",
			"compute routers delete",
		}},
		{Category: CategoryProject, Patterns: []string{
			"projects delete",
			"projects move",
		}},
		{Category: CategoryCompute, Patterns: []string{
			"compute instances delete",
			"compute disks delete",
			"compute images delete",
			"compute snapshots delete",
			"functions delete",
		}},
		{Category: CategoryStorage, Patterns: []string{
			"storage buckets delete",
			"storage rm",
			"gsutil rm",
			"gsutil rb",
			"gsutil acl ch",
		}},
		{Category: CategoryDatabase, Patterns: []string{
			"sql instances delete",
			"sql databases delete",
			"spanner instances delete",
			"bigtable instances delete",
		}},
	},

	Phrases: []Phrase{
		{"who am i", "gcloud auth list"},
		{"show my account", "gcloud auth list"},
		{"show projects", "gcloud projects list"},
		{"list projects", "gcloud projects list"},
		{"current project", "gcloud config get-value project"},
		{"show config", "gcloud config list"},
		{"list my instances", "gcloud compute instances list"},
		{"list instances", "gcloud compute instances list"},
		{"list running instances", "gcloud compute instances list --filter=status=RUNNING"},
		{"list disks", "gcloud compute disks list"},
		{"list images", "gcloud compute images list --no-standard-images"},
		{"list snapshots", "gcloud compute snapshots list"},
		{"list machine types", "gcloud compute machine-types list"},
		{"list zones", "gcloud compute zones list"},
		{"list buckets", "gcloud storage buckets list"},
		{"list storage buckets", "gcloud storage buckets list"},
		{"list service accounts", "gcloud iam service-accounts list"},
		{"list iam roles", "gcloud iam roles list --project"},
		{"get iam policy", "gcloud projects get-iam-policy"},
		{"list secrets", "gcloud secrets list"},
		{"list kms keyrings", "gcloud kms keyrings list --location=global"},
		{"list firewalls", "gcloud compute firewall-rules list"},
		{"get firewalls", "gcloud compute firewall-rules list"},
		{"list network security", "gcloud compute firewall-rules list"},
		{"list networks", "gcloud compute networks list"},
		{"list subnets", "gcloud compute networks subnets list"},
		{"list addresses", "gcloud compute addresses list"},
		{"list sql databases", "gcloud sql instances list"},
		{"list sql instances", "gcloud sql instances list"},
		{"list databases", "gcloud sql instances list"},
		{"list clusters", "gcloud container clusters list"},
		{"list gke clusters", "gcloud container clusters list"},
		{"list cloud functions", "gcloud functions list"},
		{"list functions", "gcloud functions list"},
		{"list services", "gcloud run services list"},
		{"list cloud run services", "gcloud run services list"},
		{"list logging sinks", "gcloud logging sinks list"},
	},

	AuthErrorPatterns: []string{
		"gcloud auth login",
		"DefaultCredentialsError",
		"Reauthentication required",
		"does not have any valid credentials",
		"Your current active account does not have",
	},
	LoginHint: "run `gcloud auth login` (or `gcloud auth application-default login`)",

	ContextFlags: []string{"--project"},
}
