package rules

// defaultEntries is scanned in order; the first entry with a matching
// keyword wins.
var defaultEntries = []Entry{
	{
		Keywords: []string{"moisture", "water", "irrigation", "irrigate", "dry", "wet", "drought"},
		Answer: "For optimal crop growth, soil moisture should stay between 65 and 80 percent. " +
			"If moisture drops below 65 percent, irrigate in the early morning or evening to reduce evaporation. " +
			"Avoid irrigating at midday. Drip irrigation is the most efficient method for most crops and can cut " +
			"water use by 30 to 50 percent compared to flood irrigation. Check your sensors daily during dry spells.",
	},
	{
		Keywords: []string{"fertilizer", "fertilise", "nutrient", "nitrogen", "npk", "compost", "manure"},
		Answer: "Nutrient needs depend on crop stage. Nitrogen matters most in the vegetative stage; phosphorus " +
			"and potassium matter more at flowering and fruiting. Good organic options are vermicompost at 2 to 3 " +
			"tons per hectare or green manure cover crops. Apply fertilizer after irrigation so it penetrates the " +
			"soil, and test the soil first to avoid over-application.",
	},
	{
		Keywords: []string{"pest", "insect", "bug", "aphid", "caterpillar", "spray", "pesticide"},
		Answer: "For organic pest control, spray neem oil at 5 ml per liter of water every 7 days against most " +
			"soft-bodied insects. Bacillus thuringiensis (Bt) is effective against caterpillars and safe for " +
			"beneficial insects. Scout your fields every 3 to 4 days, remove infested plant material at once, and " +
			"consider intercropping with marigold or coriander to repel common pests.",
	},
	{
		Keywords: []string{"disease", "blight", "fungus", "rust", "rot", "wilt", "yellow", "brown", "spot"},
		Answer: "Most fungal diseases spread in warm, humid conditions. Keep proper plant spacing for air " +
			"circulation, avoid overhead irrigation, and destroy infected material immediately. Copper-based " +
			"fungicide (1% Bordeaux mixture) works against most fungal and bacterial diseases; apply it in the " +
			"early morning so plants dry before nightfall.",
	},
	{
		Keywords: []string{"ph", "acid", "alkaline", "lime", "soil test"},
		Answer: "Most crops grow best at pH 6.0 to 7.0. For acidic soil below 6.0, add agricultural lime at 1 to 2 " +
			"tons per hectare and wait 2 to 3 months before planting. For alkaline soil above 7.5, apply sulfur at " +
			"200 to 500 kg per hectare. Retest 60 days after treatment; your pH sensor shows changes in real time.",
	},
	{
		Keywords: []string{"wheat", "rabi", "winter crop"},
		Answer: "Wheat grows best between 15 and 22 degrees Celsius. Sow on time for your region (October to " +
			"December across most of India), keep soil moisture at 60 to 75 percent during tillering and grain " +
			"filling, and watch for yellow rust stripes on leaves. Split fertilizer: half at sowing, half at first " +
			"irrigation.",
	},
	{
		Keywords: []string{"rice", "paddy", "kharif"},
		Answer: "Rice needs steady moisture, ideally 3 to 5 cm of standing water during vegetative stages, and soil " +
			"temperature between 20 and 35 degrees Celsius. Apply nitrogen in three splits (transplanting, " +
			"tillering, panicle initiation) and scout for rice blast, which shows as diamond-shaped grey lesions. " +
			"Drain fields 2 weeks before harvest.",
	},
	{
		Keywords: []string{"cotton"},
		Answer: "Cotton is a heavy feeder and wants well-drained soil at pH 6.0 to 7.5. Water stress at flowering " +
			"and boll development cuts yield sharply, so keep moisture at 65 to 75 percent. Apply potassium-rich " +
			"fertilizer during boll formation and scout weekly for pink bollworm and whitefly; spray neem oil at the " +
			"first sign of sucking pests.",
	},
	{
		Keywords: []string{"maize", "corn"},
		Answer: "Maize needs full sun and steady moisture, especially at tasseling and silking; moisture below 50 " +
			"percent at that stage can cut yields by up to 40 percent. Apply nitrogen at planting and at knee height. " +
			"Check the whorl of young plants for fall armyworm feeding holes and treat with Bt spray immediately.",
	},
	{
		Keywords: []string{"harvest", "when to harvest", "ready to harvest"},
		Answer: "Harvest timing depends on crop and end use. Grains such as wheat and rice are usually harvested at " +
			"14 to 20 percent moisture and dried to 12 to 14 percent for storage. Plan harvesting around dry " +
			"weather windows and avoid harvesting right after heavy rain.",
	},
	{
		Keywords: []string{"market", "price", "sell", "msp", "mandi"},
		Answer: "Compare mandi prices on the eNAM platform before selling. The Minimum Support Price (MSP) is the " +
			"floor for major crops. To beat it, consider selling 2 to 4 weeks after the peak harvest glut, joining " +
			"a Farmer Producer Organization for collective bargaining, or selling directly to processors.",
	},
	{
		Keywords: []string{"weather", "rain", "forecast", "temperature", "climate"},
		Answer: "Use the 7-day forecast for your area. Delay irrigation if rain is expected within 48 hours, do " +
			"not spray pesticides or fertilizers before predicted rain, plan harvesting in dry windows, and protect " +
			"seedlings when night temperatures are forecast below 10 degrees Celsius.",
	},
	{
		Keywords: []string{"drone", "uav", "aerial", "survey", "imaging"},
		Answer: "Drone scans are most useful early in the season (germination gaps), mid-season (pest and disease " +
			"hotspots) and before harvest (yield estimates). A 2-hectare scan takes about 20 minutes and produces an " +
			"NDVI crop health map showing exactly where the field needs attention.",
	},
	{
		Keywords: []string{"scheme", "subsidy", "government", "pm kisan", "loan", "credit", "kcc"},
		Answer: "Key schemes: PM-KISAN pays 6,000 rupees a year in three installments; PM Fasal Bima Yojana offers " +
			"subsidized crop insurance; the Kisan Credit Card gives up to 3 lakh rupees of short-term credit at 4 " +
			"percent; PM Krishi Sinchai Yojana subsidizes drip and sprinkler systems by up to 55 percent.",
	},
	{
		Keywords: []string{"sensor", "how does", "what is", "explain", "agrisense"},
		Answer: "The sensor kit measures soil moisture, soil temperature, soil pH and overall nutrient (NPK) level " +
			"in real time, updating every few seconds and keeping 7 days of history. When a reading leaves its " +
			"optimal range the advisor generates specific recommendations automatically.",
	},
}

var defaultFallbacks = []string{
	"Based on general best practice: keep soil moisture between 65 and 80 percent, hold pH in the 6.0 to 7.0 " +
		"range, and prefer organic inputs to build long-term soil health. Reconnect to the internet for advice " +
		"tailored to your exact sensor readings.",
	"For most crop health issues, first check moisture, temperature and pH. If all three are in range and " +
		"problems persist, the cause is likely pest or disease; scan an affected leaf with the crop doctor. More " +
		"detailed advice is available once you are back online.",
	"Good farming comes down to consistency: check sensor readings daily, irrigate on measured moisture rather " +
		"than the calendar, and scout fields every 3 to 4 days. Early detection almost always means cheaper " +
		"treatment. Ask a more specific question and I will do my best to help.",
}
